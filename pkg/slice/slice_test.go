// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package slice_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/warden/pkg/slice"
)

/*
TestMap transforms every element and keeps nil as nil.
*/
func TestMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, slice.Map([]int{1, 2}, strconv.Itoa))
	assert.Nil(t, slice.Map[int, string](nil, strconv.Itoa))
}

/*
TestFilter never aliases the input.
*/
func TestFilter(t *testing.T) {
	input := []int{1, 2, 3, 4}
	even := slice.Filter(input, func(v int) bool { return v%2 == 0 })

	assert.Equal(t, []int{2, 4}, even)

	even[0] = 100
	assert.Equal(t, []int{1, 2, 3, 4}, input)
	assert.Empty(t, slice.Filter(nil, func(int) bool { return true }))
}
