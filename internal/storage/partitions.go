package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

// PartitionFile is the name of bucket k inside an intermediate or output
// directory.
func PartitionFile(dir string, bucket int) string {
	return path.Join(dir, fmt.Sprintf("data_%d.txt", bucket))
}

// ParsePartitionFile returns the bucket encoded in a partition file name.
func ParsePartitionFile(name string) (int, bool) {
	var bucket int
	base := path.Base(name)
	if n, err := fmt.Sscanf(base, "data_%d.txt", &bucket); err != nil || n != 1 {
		return 0, false
	}
	if PartitionFile("", bucket) != base || bucket < 0 {
		return 0, false
	}
	return bucket, true
}

// WritePartitions appends every non-empty bucket to its partition file under
// dir as key<TAB>value lines. Buckets are written strictly in index order;
// the write for bucket k+1 starts only after bucket k has been appended.
// The first failure stops the sequence.
func WritePartitions(s Storage, dir string, buckets [][]common.Record) error {
	for k, records := range buckets {
		if len(records) == 0 {
			continue
		}
		h, err := s.OpenOrCreate(PartitionFile(dir, k))
		if err != nil {
			return fmt.Errorf("partition %d: %w", k, err)
		}
		if err := s.AppendText(h, FormatRecords(records)); err != nil {
			return fmt.Errorf("partition %d: %w", k, err)
		}
	}
	return nil
}

// FormatRecords renders records as newline terminated key<TAB>value lines.
func FormatRecords(records []common.Record) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.Key)
		b.WriteByte('\t')
		b.WriteString(r.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseRecord splits a partition line on its first TAB.
func ParseRecord(line string) (common.Record, bool) {
	key, value, ok := strings.Cut(line, "\t")
	if !ok || key == "" {
		return common.Record{}, false
	}
	return common.Record{Key: key, Value: value}, true
}
