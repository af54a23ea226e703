// Package dictionary maintains the custom term dictionary: a persisted
// term list plus a review queue fed by low-confidence transcripts.
package dictionary

import "strings"

const (
	minCandidateLen = 4
	maxCandidateLen = 36
)

// LowConfidenceThreshold marks a final transcript as a dictionary
// candidate source. Backends reporting no confidence stay above it.
const LowConfidenceThreshold = 0.75

// CandidateTerms extracts dictionary candidates from a transcript. Only
// low-confidence transcripts contribute; plain prose words never qualify,
// only tokens with structure (digits, separators, unusual casing).
func CandidateTerms(transcript string, lowConfidence bool) []string {
	if !lowConfidence {
		return nil
	}

	seen := make(map[string]struct{})
	var candidates []string
	for _, token := range strings.Fields(transcript) {
		cleaned := strings.TrimFunc(token, func(r rune) bool {
			return !isASCIIAlnum(r) && r != '-' && r != '_' && r != '.'
		})
		if len(cleaned) < minCandidateLen || len(cleaned) > maxCandidateLen {
			continue
		}
		key := strings.ToLower(cleaned)
		if _, dup := seen[key]; dup {
			continue
		}
		if isHighSignalTerm(cleaned) {
			seen[key] = struct{}{}
			candidates = append(candidates, cleaned)
		}
	}
	return candidates
}

func isHighSignalTerm(token string) bool {
	hasDigit := strings.ContainsFunc(token, func(r rune) bool { return r >= '0' && r <= '9' })
	hasStructure := hasDigit || strings.ContainsAny(token, "-_.")
	if hasStructure {
		return len(token) >= minCandidateLen
	}

	upperCount := 0
	hasInternalUpper := false
	for i, r := range token {
		if r >= 'A' && r <= 'Z' {
			upperCount++
			if i > 0 {
				hasInternalUpper = true
			}
		}
	}

	if upperCount >= 3 {
		return len(token) >= minCandidateLen
	}
	if hasInternalUpper {
		return len(token) >= 5
	}
	if upperCount >= 2 && len(token) >= 6 {
		return true
	}
	return false
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
