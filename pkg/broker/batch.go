// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/teradata-labs/fable/pkg/types"
)

// synthesizeBatchPrompt merges a group of same-kind requests into one prompt
// with numbered delimiters plus an instruction block fixing the output
// format the splitter expects.
func synthesizeBatchPrompt(group []*pending) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You will receive %d numbered requests. Answer each one independently.\n", len(group))
	b.WriteString("Format your output as one section per request, exactly:\n\n")
	for i := range group {
		fmt.Fprintf(&b, "**Response %d:** <your answer to request %d>\n", i+1, i+1)
	}
	b.WriteString("\nDo not add text outside these sections.\n\n")
	for i, p := range group {
		fmt.Fprintf(&b, "## Request %d (ID: %s)\n%s\n\n", i+1, p.req.ID, p.req.Prompt)
	}
	return b.String()
}

var responseMarker = regexp.MustCompile(`(?m)^\s*\*\*Response (\d+):\*\*`)

// splitBatchResponse cuts the provider's content back into per-request
// segments, indexed 0-based by request position. Requests whose section is
// missing are simply absent from the map; the caller turns that into a
// malformed_response error for the unmatched suffix.
func splitBatchResponse(content string, n int) map[int]string {
	locs := responseMarker.FindAllStringSubmatchIndex(content, -1)
	out := make(map[int]string, len(locs))
	for i, loc := range locs {
		num, err := strconv.Atoi(content[loc[2]:loc[3]])
		if err != nil || num < 1 || num > n {
			continue
		}
		start := loc[1]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[num-1] = strings.TrimSpace(content[start:end])
	}
	return out
}

// divideUsage attributes a batch's cost and tokens evenly across its n
// requests. The remainder lands on the first request so totals still add up.
func divideUsage(total types.Usage, n int) []types.Usage {
	if n <= 0 {
		return nil
	}
	out := make([]types.Usage, n)
	for i := range out {
		out[i] = types.Usage{
			InputTokens:  total.InputTokens / n,
			OutputTokens: total.OutputTokens / n,
			TotalTokens:  total.TotalTokens / n,
			CostUSD:      total.CostUSD / float64(n),
		}
	}
	out[0].InputTokens += total.InputTokens % n
	out[0].OutputTokens += total.OutputTokens % n
	out[0].TotalTokens += total.TotalTokens % n
	return out
}
