package utils

import (
	"fmt"
	"sync"
)

type Task[T any] struct {
	Index int
	Item  T
}

type CompletedTask[T any] struct {
	Index  int
	Result T
	Error  error
}

// RunInPool drains queue with up to maxWorkers goroutines and closes completed
// once every task has been processed. queue must be closed by the caller.
func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan Task[In], completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(1, min(len(queue), maxWorkers))

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for next := range queue {
					res, err := worker(next.Item)
					if err != nil {
						completed <- CompletedTask[Out]{Index: next.Index, Error: err}
					} else {
						completed <- CompletedTask[Out]{Index: next.Index, Result: res}
					}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

// MapInPool applies worker to every item concurrently and returns the results
// in input order. The first error encountered is returned.
func MapInPool[In any, Out any](items []In, worker func(In) (Out, error), maxWorkers int) ([]Out, error) {
	queue := make(chan Task[In], len(items))
	for i, item := range items {
		queue <- Task[In]{Index: i, Item: item}
	}
	close(queue)

	completed := make(chan CompletedTask[Out], len(items))
	RunInPool(worker, queue, completed, maxWorkers)

	results := make([]Out, len(items))
	var firstErr error
	for task := range completed {
		if task.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("item %d: %w", task.Index, task.Error)
			}
			continue
		}
		results[task.Index] = task.Result
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
