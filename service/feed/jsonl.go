package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/viant/afs"
)

type jsonl struct {
	fs      afs.Service
	URL     string
	scanner *bufio.Scanner
	next    int
	failed  error
}

// OfJSONL returns a feed reading one JSON payload per line from the given
// location. The file is fetched on first use, not at construction.
func OfJSONL(fs afs.Service, URL string) Feed {
	if fs == nil {
		fs = afs.New()
	}
	return &jsonl{fs: fs, URL: URL}
}

func (j *jsonl) Next(ctx context.Context) (*task.Task, error) {
	if j.failed != nil {
		return nil, j.failed
	}
	if j.scanner == nil {
		data, err := j.fs.DownloadWithURL(ctx, j.URL)
		if err != nil {
			j.failed = fmt.Errorf("failed to read feed %s: %w", j.URL, err)
			return nil, j.failed
		}
		j.scanner = bufio.NewScanner(bytes.NewReader(data))
	}
	for j.scanner.Scan() {
		line := strings.TrimSpace(j.scanner.Text())
		if line == "" {
			continue
		}
		var payload interface{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			j.failed = fmt.Errorf("invalid feed line %v in %s: %w", j.next+1, j.URL, err)
			return nil, j.failed
		}
		aTask := &task.Task{ID: j.next, Payload: payload}
		j.next++
		return aTask, nil
	}
	if err := j.scanner.Err(); err != nil {
		j.failed = err
		return nil, err
	}
	j.failed = io.EOF
	return nil, io.EOF
}
