package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Info describes an exported stream.
type Info struct {
	Dataset  Dataset           `json:"dataset"`
	Columns  []string          `json:"columns"`
	Rows     int64             `json:"rows"`
	Batches  int               `json:"batches"`
	Metadata map[string]string `json:"metadata"`
}

// Inspect reads a stream written by this package and counts its rows.
func Inspect(in io.Reader, mem memory.Allocator) (*Info, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	r, err := ipc.NewReader(in, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	defer r.Release()

	schema := r.Schema()
	info := &Info{Metadata: map[string]string{}}
	md := schema.Metadata()
	for i, k := range md.Keys() {
		info.Metadata[k] = md.Values()[i]
	}
	info.Dataset = Dataset(info.Metadata["dataset"])
	for _, f := range schema.Fields() {
		info.Columns = append(info.Columns, f.Name)
	}

	for r.Next() {
		info.Rows += r.Record().NumRows()
		info.Batches++
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return info, nil
}
