package services

import (
	"fmt"
	"sort"
	"strings"

	"csclub/backend/pkg/models"
)

// DebugReport renders a finished workflow run for logs and the ask command.
// resultKey is the output the caller is about to read.
func DebugReport(data *models.WorkflowFinishedData, resultKey string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", data.Status)
	fmt.Fprintf(&b, "Error: %s\n", optionalString(data.Error))
	if data.TotalTokens != nil {
		fmt.Fprintf(&b, "Total tokens: %d\n", *data.TotalTokens)
	} else {
		b.WriteString("Total tokens: none\n")
	}
	if data.ElapsedTime != nil {
		fmt.Fprintf(&b, "Elapsed time: %.3fs\n", *data.ElapsedTime)
	} else {
		b.WriteString("Elapsed time: none\n")
	}
	fmt.Fprintf(&b, "Total steps: %d\n", data.TotalSteps)
	fmt.Fprintf(&b, "Created at: %d\n", data.CreatedAt)
	fmt.Fprintf(&b, "Finished at: %d\n", data.FinishedAt)

	b.WriteString("\nOutputs:\n")
	if !data.HasOutputs() {
		b.WriteString("No outputs available\n")
	} else {
		fmt.Fprintf(&b, "Raw outputs: %s\n", data.Outputs)
		b.WriteString("Available keys in outputs:\n")
		for _, k := range OutputKeys(data.Outputs) {
			fmt.Fprintf(&b, "- %s\n", k)
		}

		r, err := lookupOutput(data.Outputs, resultKey)
		if err != nil {
			fmt.Fprintf(&b, "No '%s' key found in outputs\n", resultKey)
		} else {
			fmt.Fprintf(&b, "\nValue of '%s' key: %s\n", resultKey, r.Raw)
			if s, err := OutputString(data.Outputs, resultKey); err == nil {
				fmt.Fprintf(&b, "'%s' as string: %s\n", resultKey, s)
			} else {
				fmt.Fprintf(&b, "'%s' is not a string\n", resultKey)
			}
		}
	}

	b.WriteString("\nExtra fields:\n")
	keys := make([]string, 0, len(data.Extra))
	for k := range data.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, data.Extra[k])
	}

	return b.String()
}

func optionalString(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
