// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestionDistance is the largest edit distance still offered as a
// "did you mean" suggestion.
const suggestionDistance = 3

// suggestCommand returns the subcommand name closest to unknown, or ""
// if none is close enough.
func suggestCommand(unknown string, commands []*Command) string {
	best := ""
	bestDistance := suggestionDistance + 1
	for _, command := range commands {
		if distance := levenshtein(unknown, command.Name); distance < bestDistance {
			bestDistance = distance
			best = command.Name
		}
	}
	return best
}

// suggestFlag finds the first undefined flag in args and returns the
// closest defined flag with its dashes, or "".
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if index := strings.IndexByte(name, '='); index >= 0 {
			name = name[:index]
		}
		if flagSet.Lookup(name) != nil {
			continue
		}

		best := ""
		bestDistance := suggestionDistance + 1
		flagSet.VisitAll(func(candidate *pflag.Flag) {
			if distance := levenshtein(name, candidate.Name); distance < bestDistance {
				bestDistance = distance
				best = candidate.Name
			}
		})
		if best == "" {
			return ""
		}
		return "--" + best
	}
	return ""
}

// levenshtein is the single-character edit distance between a and b.
func levenshtein(a, b string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(a) == 0 {
		return len(b)
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}
	current := make([]int, len(a)+1)
	for j := 1; j <= len(b); j++ {
		current[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[i] = min(previous[i]+1, current[i-1]+1, previous[i-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(a)]
}
