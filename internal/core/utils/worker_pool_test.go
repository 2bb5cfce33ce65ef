package utils_test

import (
	"fmt"
	"query-classifier/internal/core/utils"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInpool(t *testing.T) {
	worker := func(i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	queue := make(chan utils.Task[int], 10)

	for i := 0; i < 10; i++ {
		queue <- utils.Task[int]{Index: i, Item: i}
	}

	close(queue)

	output := make(chan utils.CompletedTask[string], 10)

	utils.RunInPool(worker, queue, output, 5)

	success, errors := 0, 0
	for result := range output {
		if result.Error != nil {
			errors++
		} else {
			assert.Equal(t, fmt.Sprintf("%d-%d", result.Index, result.Index), result.Result)
			success++
		}
	}

	if success != 8 || errors != 2 {
		t.Fatal("invalid results")
	}
}

func TestMapInPoolKeepsOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	out, err := utils.MapInPool(items, func(i int) (int, error) {
		time.Sleep(time.Duration(50-i) * 10 * time.Microsecond)
		return i * i, nil
	}, 8)
	require.NoError(t, err)

	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}

func TestMapInPoolError(t *testing.T) {
	_, err := utils.MapInPool([]string{"a", "", "c"}, func(s string) (int, error) {
		if s == "" {
			return 0, fmt.Errorf("empty item")
		}
		return len(s), nil
	}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 1")
}

func TestMapInPoolEmpty(t *testing.T) {
	out, err := utils.MapInPool([]int{}, func(i int) (int, error) { return i, nil }, 4)
	require.NoError(t, err)
	assert.Empty(t, out)
}
