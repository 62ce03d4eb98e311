// Copyright (C) 2024 v8rand authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command v8rand recovers the internal state of V8's Math.random() from a
// file of leaked outputs and predicts arbitrary past and future values.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nsec/v8rand/ioobs"
	"github.com/nsec/v8rand/mathrandom"
	"github.com/nsec/v8rand/policy"
	"github.com/nsec/v8rand/recovery"
)

func main() {
	method := flag.String("method", "", `the kind of leaked values to use to recover possible Math.random() states
"doubles": one output of Math.random() per line (between 0.0 and 1.0)
"scaled": one output of Math.floor(Math.random() * factor + translation) per line
"bounds": one pair of space-separated min/max bounds of Math.random() outputs per line`)
	factor := flag.Uint64("factor", 1, `the factor to use for method / output-fmt "scaled"`)
	translation := flag.Int64("translation", 0, `the translation to use for method / output-fmt "scaled"`)
	next := flag.Int("next", 10, "how many next Math.random() outputs to predict")
	previous := flag.Int("previous", 0, "how many previous Math.random() outputs to predict")
	showLeaks := flag.Bool("show-leaks", false, "show the recovered leaked values corresponding to the input file")
	outputFmt := flag.String("output-fmt", "doubles", `the format of the predicted values: "doubles" or "scaled"`)
	policyPath := flag.String("policy", "", "path to a YAML file overriding the solver's tunable thresholds")
	maxCandidates := flag.Int("max-candidates", 0, "stop after this many recovered candidates (0 = unlimited)")
	debug := flag.Bool("debug", false, "raise log level")
	flag.Parse()

	if !*debug {
		log.SetOutput(io.Discard)
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: v8rand --method {doubles,scaled,bounds} [flags] <file>")
		os.Exit(1)
	}
	file := args[0]

	switch *method {
	case "doubles", "scaled", "bounds":
	default:
		fmt.Fprintf(os.Stderr, "invalid --method %q: must be doubles, scaled, or bounds\n", *method)
		os.Exit(1)
	}
	if *method == "scaled" && *factor < 2 {
		fmt.Fprintln(os.Stderr, "--factor must be specified and larger than 1 when using --method scaled")
		os.Exit(1)
	}
	switch *outputFmt {
	case "doubles", "scaled":
	default:
		fmt.Fprintf(os.Stderr, "invalid --output-fmt %q: must be doubles or scaled\n", *outputFmt)
		os.Exit(1)
	}

	p, err := policy.Load(*policyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	obs, err := ioobs.Parse(file, ioobs.Mode(*method))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Printf("v8rand: parsed %s (digest %x)", file, obs.Digest)

	opts := recovery.Options{Positions: obs.Positions, Policy: p, MaxCandidates: *maxCandidates}

	var stream *recovery.Stream
	switch *method {
	case "doubles":
		stream, err = recovery.FromDoubles(obs.Doubles, opts)
	case "scaled":
		stream, err = recovery.FromScaled(obs.Scaled, *factor, *translation, opts)
	case "bounds":
		bounds := make([][2]float64, len(obs.Bounds))
		for i, b := range obs.Bounds {
			bounds[i] = [2]float64{b.Lo, b.Hi}
		}
		stream, err = recovery.FromBounds(bounds, opts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	maxPos := 0
	for _, pos := range obs.Positions {
		if pos > maxPos {
			maxPos = pos
		}
	}
	numLeaks := maxPos + 1

	found := false
	stream.Each(func(g *mathrandom.Generator) bool {
		found = true
		fmt.Println("Found a possible Math.random internal state")

		if *previous > 0 {
			prev := make([]any, *previous)
			for i := *previous - 1; i >= 0; i-- {
				prev[i] = formatRandom(g.Previous(), *outputFmt, *factor, *translation)
			}
			for i := 0; i < *previous; i++ {
				g.Next() // restore the position consumed above
			}
			fmt.Printf("Predicted previous %d values: %v\n", *previous, prev)
		}

		if *showLeaks {
			leaks := make([]any, numLeaks)
			for i := range leaks {
				leaks[i] = formatRandom(g.Next(), *outputFmt, *factor, *translation)
			}
			fmt.Printf("Recovered leaked values: %v\n", leaks)
		} else {
			for i := 0; i < numLeaks; i++ {
				g.Next()
			}
		}

		if *next > 0 {
			vals := make([]any, *next)
			for i := range vals {
				vals[i] = formatRandom(g.Next(), *outputFmt, *factor, *translation)
			}
			fmt.Printf("Predicted next %d values: %v\n", *next, vals)
		}

		fmt.Println()
		return true
	})

	if !found {
		fmt.Println("Couldn't recover any possible Math.random internal state. Please check your values file.")
	}
}

func formatRandom(v float64, outputFmt string, factor uint64, translation int64) any {
	if outputFmt == "scaled" {
		return int64(v*float64(factor)) + translation
	}
	return v
}
