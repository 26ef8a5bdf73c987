package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aicamera/circle-detection-service/models"
)

const (
	MsgNoTargets = "No circular targets detected. Check that the target is in frame and lit evenly."

	MsgSingleTarget = "One circular target detected"

	MsgMultipleTargets = "%d circular targets detected"
)

// getDetectionMessage summarises circles for the overlay status line, e.g.
// "2 circular targets detected (1 ROI, 1 RedCenter)".
func getDetectionMessage(circles []models.Circle) string {
	switch len(circles) {
	case 0:
		return MsgNoTargets
	case 1:
		return fmt.Sprintf("%s (%s)", MsgSingleTarget, circles[0].ClassName)
	default:
		return fmt.Sprintf(MsgMultipleTargets+" (%s)", len(circles), classBreakdown(circles))
	}
}

func classBreakdown(circles []models.Circle) string {
	counts := make(map[string]int)
	var order []string
	for _, c := range circles {
		if counts[c.ClassName] == 0 {
			order = append(order, c.ClassName)
		}
		counts[c.ClassName]++
	}
	sort.Strings(order)

	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[name], name))
	}
	return strings.Join(parts, ", ")
}
