// Copyright 2022-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggestionActionable(t *testing.T) {
	for _, action := range []SuggestionAction{SuggestHold, SuggestMonitor, SuggestReview} {
		assert.False(t, action.Actionable(), string(action))
	}
	for _, action := range []SuggestionAction{SuggestClose, SuggestRoll, SuggestAdjust} {
		assert.True(t, action.Actionable(), string(action))
	}
}
