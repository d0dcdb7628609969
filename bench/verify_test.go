// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package bench

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyAgainstFileRepeatMatchesEveryQueue(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "ref.bin")
	ref := []byte("0123456789abcdef")
	assert.NoError(os.WriteFile(path, ref, 0644))

	buffers := [][]byte{append([]byte{}, ref...), append([]byte{}, ref...)}
	assert.NoError(VerifyAgainstFile(path, PatternRepeat, buffers))
}

func TestVerifyAgainstFileRepeatMismatchErrors(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "ref.bin")
	assert.NoError(os.WriteFile(path, []byte("expected-data"), 0644))

	buffers := [][]byte{[]byte("wrong-data!!!")}
	err := VerifyAgainstFile(path, PatternRepeat, buffers)
	assert.Error(err)
}

func TestVerifyAgainstFileSequentialConcatenates(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "ref.bin")
	assert.NoError(os.WriteFile(path, []byte("abcdef"), 0644))

	buffers := [][]byte{[]byte("abc"), []byte("def")}
	assert.NoError(VerifyAgainstFile(path, PatternSequential, buffers))
}

func TestVerifyAgainstFileRandomUnsupported(t *testing.T) {
	assert := assert.New(t)

	err := VerifyAgainstFile("unused", PatternRandom, nil)
	assert.Error(err)
}

func TestVerifyAgainstFileMissingFile(t *testing.T) {
	assert := assert.New(t)

	err := VerifyAgainstFile("/nonexistent/ref.bin", PatternSequential, [][]byte{[]byte("x")})
	assert.Error(err)
}
