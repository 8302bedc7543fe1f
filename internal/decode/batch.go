package decode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voxlab/actseg/internal/dialog"
)

// Failure records one call that could not be decoded.
type Failure struct {
	CallID string
	Err    error
}

// BatchResult is the outcome of decoding a corpus: every call that decoded
// cleanly, plus a failure entry for every call that did not. No call is ever
// dropped without appearing in Failures.
type BatchResult struct {
	Corpus   dialog.Corpus
	Failures []Failure
}

// Corpus decodes predictions for a whole corpus. transcripts maps call ids
// to the original turn skeletons; predictions maps call ids to tag lists.
// Calls are independent, so they are decoded by a bounded worker pool; one
// call's failure never aborts the batch. Failures are returned sorted by
// call id.
func Corpus(transcripts map[string][]dialog.Turn, predictions map[string][]string, workers int, opts Options) BatchResult {
	res := BatchResult{Corpus: make(dialog.Corpus, len(transcripts))}

	ids := make([]string, 0, len(transcripts))
	for id := range transcripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Predictions for calls missing from the reference transcripts cannot
	// be attributed to any turn structure.
	for id := range predictions {
		if _, ok := transcripts[id]; !ok {
			res.Failures = append(res.Failures, Failure{
				CallID: id,
				Err:    fmt.Errorf("no transcript for call %s", id),
			})
		}
	}

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan string)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				call, err := decodeOne(transcripts[id], predictions[id], opts)
				mu.Lock()
				if err != nil {
					res.Failures = append(res.Failures, Failure{CallID: id, Err: err})
				} else {
					res.Corpus[id] = call
				}
				mu.Unlock()
			}
		}()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].CallID < res.Failures[j].CallID
	})
	return res
}

// decodeOne isolates a single call's decode, converting a panic into a
// recorded failure so a malformed call cannot take down a batch worker.
func decodeOne(turns []dialog.Turn, tags []string, opts Options) (call dialog.Call, err error) {
	defer func() {
		if r := recover(); r != nil {
			call, err = nil, fmt.Errorf("decode panic: %v", r)
		}
	}()
	return Call(turns, tags, opts)
}
