package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type collector struct {
	started bool
	tasks   []Task
}

func (c *collector) Start()        { c.started = true }
func (c *collector) Handle(t Task) { c.tasks = append(c.tasks, t) }

func TestWorkerHandlesInOrder(t *testing.T) {
	var wg sync.WaitGroup
	w := NewWorker("test", &wg)
	c := &collector{}
	w.Start(c)
	for i := 0; i < 10; i++ {
		assert.True(t, w.Submit(i))
	}
	w.Stop()
	wg.Wait()

	assert.True(t, c.started)
	assert.Len(t, c.tasks, 10)
	for i, task := range c.tasks {
		assert.Equal(t, i, task)
	}
	assert.False(t, w.Submit(11))
	w.Stop()
	assert.Equal(t, "test", w.Name())
}
