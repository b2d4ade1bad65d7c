package worker

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

// MapFunc turns the lines of one input shard into records.
type MapFunc func(lines []string) []common.Record

// ReduceFunc turns all values of one key into output values.
type ReduceFunc func(key string, values []string) []string

var mappers = map[string]MapFunc{
	"wordcount": WordCountMap,
	"identity":  IdentityMap,
}

var reducers = map[string]ReduceFunc{
	"wordcount": WordCountReduce,
	"identity":  IdentityReduce,
}

func LookupMapper(name string) (MapFunc, bool) {
	f, ok := mappers[name]
	return f, ok
}

func LookupReducer(name string) (ReduceFunc, bool) {
	f, ok := reducers[name]
	return f, ok
}

// WordCountMap counts whitespace separated words across the shard and emits
// one record per distinct word, sorted by word.
func WordCountMap(lines []string) []common.Record {
	counts := make(map[string]int)
	for _, line := range lines {
		for _, w := range strings.Fields(line) {
			counts[w]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Strings(words)

	kva := make([]common.Record, 0, len(words))
	for _, w := range words {
		kva = append(kva, common.Record{Key: w, Value: strconv.Itoa(counts[w])})
	}
	return kva
}

// WordCountReduce sums the partial counts of a word. Values that are not
// integers are skipped.
func WordCountReduce(key string, values []string) []string {
	total := 0
	for _, v := range values {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		total += n
	}
	return []string{strconv.Itoa(total)}
}

// IdentityMap reads key<TAB>value lines; a line without a TAB becomes a key
// with an empty value.
func IdentityMap(lines []string) []common.Record {
	var kva []common.Record
	for _, line := range lines {
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, "\t")
		kva = append(kva, common.Record{Key: key, Value: value})
	}
	return kva
}

func IdentityReduce(key string, values []string) []string {
	return values
}
