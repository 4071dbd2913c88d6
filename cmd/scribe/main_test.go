package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mockExit(t *testing.T) *int {
	t.Helper()
	code := -1
	orig := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = orig })
	return &code
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(fmt.Errorf("session: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("browser failed to start")))
}

func TestHandlePanic_WritesLog(t *testing.T) {
	code := mockExit(t)
	var written string
	origWrite := osWriteFile
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	t.Cleanup(func() { osWriteFile = origWrite })

	func() {
		defer handlePanic()
		panic("boom")
	}()

	assert.Equal(t, 1, *code)
	assert.Contains(t, written, "panic: boom")
	assert.Contains(t, written, "goroutine")
}

func TestHandlePanic_WriteFailure(t *testing.T) {
	code := mockExit(t)
	origWrite := osWriteFile
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
	t.Cleanup(func() { osWriteFile = origWrite })

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 1, *code)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	code := mockExit(t)
	func() {
		defer handlePanic()
	}()
	assert.Equal(t, -1, *code)
}
