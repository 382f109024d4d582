package search

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Class
	}{
		{"README", ClassTextSearch},
		{"genome data", ClassTextSearch},
		{"find all .csv files", ClassFileTypeFilter},
		{"samples.BAM", ClassFileTypeFilter},
		{"size > 100MB", ClassMetadataPredicate},
		{"files after 2020", ClassMetadataPredicate},
		{"SELECT * FROM table", ClassAnalytical},
		{"count(*) group by bucket", ClassAnalytical},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		if Classify("find all .parquet files larger than 5") != ClassFileTypeFilter {
			t.Fatalf("Classify must be deterministic across repeated calls")
		}
	}
}

func TestNormalizeBuckets(t *testing.T) {
	tests := []struct {
		bucket  string
		buckets []string
		want    []string
	}{
		{"my-bucket", nil, []string{"my-bucket"}},
		{"", []string{"a", "b"}, []string{"a", "b"}},
		{"a", []string{"a", "b"}, []string{"a", "b"}},
		{"", nil, nil},
		{" a ", []string{"a", "", "b"}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		got := NormalizeBuckets(tt.bucket, tt.buckets)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizeBuckets(%q, %v) = %v, want %v", tt.bucket, tt.buckets, got, tt.want)
		}
	}
}

func TestNormalizeBucketsSingularAndPluralAreEquivalent(t *testing.T) {
	fromSingular := NormalizeBuckets("shared-bucket", nil)
	fromPlural := NormalizeBuckets("", []string{"shared-bucket"})
	if !reflect.DeepEqual(fromSingular, fromPlural) {
		t.Errorf("bucket=X and buckets=[X] must normalize identically, got %v vs %v", fromSingular, fromPlural)
	}
}
