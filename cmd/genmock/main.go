// Command genmock writes synthetic GSOD observation CSVs for local runs and
// import tests. Values follow a seasonal curve with seeded noise, so the same
// flags always produce the same file. A share of cells can be replaced with
// GSOD missing-value sentinels to exercise row-level validation.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -site Beijing -station 54511099999 -name "BEIJING, CH" \
//	  -start 2024-01-01 -days 90 -missing 0.02 \
//	  -out data/mock/gsod_beijing_2024q1.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var header = []string{
	"SITE", "STATION", "DATE", "NAME",
	"TEMP", "DEWP", "STP", "VISIB", "WDSP", "MXSPD", "MAX", "MIN", "PRCP",
}

// missingSentinel is the GSOD placeholder per column.
var missingSentinel = map[string]string{
	"TEMP": "9999.9", "DEWP": "9999.9", "STP": "9999.9", "MAX": "9999.9", "MIN": "9999.9",
	"VISIB": "999.9", "WDSP": "999.9", "MXSPD": "999.9",
	"PRCP": "99.99",
}

type options struct {
	site, station, name string
	start               time.Time
	days                int
	missing             float64
	seed                uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	site := flag.String("site", "Beijing", "SITE column value")
	station := flag.String("station", "54511099999", "STATION column value")
	name := flag.String("name", "BEIJING, CH", "NAME column value")
	start := flag.String("start", "2024-01-01", "first observation date (YYYY-MM-DD)")
	days := flag.Int("days", 30, "number of daily observations")
	missing := flag.Float64("missing", 0, "fraction of measurement cells written as missing")
	seed := flag.Uint64("seed", 1, "random seed")
	out := flag.String("out", "", "output CSV path")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	startDate, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	if *days < 1 {
		return fmt.Errorf("-days must be positive, got %d", *days)
	}
	if *missing < 0 || *missing >= 1 {
		return fmt.Errorf("-missing must be in [0, 1), got %g", *missing)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	rows := generate(options{
		site: *site, station: *station, name: *name,
		start: startDate, days: *days, missing: *missing, seed: *seed,
	})

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	fmt.Printf("Wrote %d observations to %s\n", len(rows), *out)
	return nil
}

// generate produces one row per day. Temperatures follow an annual cosine
// with its minimum in mid January; the other fields are loosely coupled to it.
func generate(opts options) [][]string {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	rows := make([][]string, 0, opts.days)

	for i := range opts.days {
		date := opts.start.AddDate(0, 0, i)
		season := -math.Cos(2 * math.Pi * float64(date.YearDay()-15) / 365)

		temp := 55 + 28*season + rng.NormFloat64()*4
		spread := 14 + rng.Float64()*6
		dewp := temp - 12 - rng.Float64()*15
		wdsp := math.Max(0.5, 4+rng.NormFloat64()*1.5)
		prcp := 0.0
		if rng.Float64() < 0.2+0.15*season {
			prcp = rng.ExpFloat64() * 0.2
		}

		values := map[string]float64{
			"TEMP":  temp,
			"DEWP":  dewp,
			"STP":   1012 - 8*season + rng.NormFloat64()*4,
			"VISIB": math.Max(0.3, 6-2*rng.Float64()-prcp*3),
			"WDSP":  wdsp,
			"MXSPD": wdsp + 2 + rng.Float64()*5,
			"MAX":   temp + spread/2,
			"MIN":   temp - spread/2,
			"PRCP":  prcp,
		}

		row := []string{opts.site, opts.station, date.Format(time.DateOnly), opts.name}
		for _, col := range header[4:] {
			if opts.missing > 0 && rng.Float64() < opts.missing {
				row = append(row, missingSentinel[col])
				continue
			}
			precision := 1
			if col == "PRCP" {
				precision = 2
			}
			row = append(row, strconv.FormatFloat(values[col], 'f', precision, 64))
		}
		rows = append(rows, row)
	}
	return rows
}
