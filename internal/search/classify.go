// Package search implements the unified search layer (C8): rule-based
// query classification, parallel multi-backend fan-out with per-backend
// timeouts, bucket-filter normalization, and ranked, de-duplicated
// merge. Grounded on
// services/anchor/internal/database/opensearch/adapter.go (the
// Elasticsearch-compatible client) and the raw-HTTP GraphQL pattern of
// services/anchor/internal/database/weaviate/data.go.
package search

import (
	"regexp"
	"strings"
)

// Class is the deterministic, rule-based query classification of
// spec.md §4.6.
type Class string

const (
	ClassTextSearch       Class = "text-search"
	ClassFileTypeFilter   Class = "file-type-filter"
	ClassMetadataPredicate Class = "metadata-predicate"
	ClassAnalytical       Class = "analytical"
)

var (
	fileExtPattern  = regexp.MustCompile(`(?i)\.(csv|tsv|parquet|json|fastq|bam|vcf|txt|pdf|png|jpg)\b`)
	sizeOpPattern   = regexp.MustCompile(`(?i)\b(size|larger|smaller|>=|<=|>|<)\s*\d`)
	dateOpPattern   = regexp.MustCompile(`(?i)\b(before|after|since|between)\b.*\d{4}`)
	analyticalWords = []string{"select ", "count(", "sum(", "group by", "join "}
)

// Classify is a pure, deterministic function of the query text — no
// state, no randomness, per spec's "must be deterministic" requirement.
func Classify(text string) Class {
	lower := strings.ToLower(text)

	for _, w := range analyticalWords {
		if strings.Contains(lower, w) {
			return ClassAnalytical
		}
	}
	if sizeOpPattern.MatchString(lower) || dateOpPattern.MatchString(lower) {
		return ClassMetadataPredicate
	}
	if fileExtPattern.MatchString(lower) {
		return ClassFileTypeFilter
	}
	return ClassTextSearch
}

// NormalizeBuckets folds a caller's optional `bucket` (singular) and
// `buckets` (list) arguments into one list, per spec §4.6: "for all
// bucket=X and buckets=[X], the search layer issues the same backend
// filter" (spec §8 universal invariant).
func NormalizeBuckets(bucket string, buckets []string) []string {
	set := make(map[string]struct{})
	var out []string
	add := func(b string) {
		b = strings.TrimSpace(b)
		if b == "" {
			return
		}
		if _, seen := set[b]; seen {
			return
		}
		set[b] = struct{}{}
		out = append(out, b)
	}
	add(bucket)
	for _, b := range buckets {
		add(b)
	}
	return out
}
