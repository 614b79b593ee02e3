package facematch

import "sort"

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ScaleBBox maps a bbox detected on a resized frame back to the source frame.
// scale is the factor that was applied to the source (0.75 means shrunk to 75%).
func ScaleBBox(bbox []float64, scale float64) []float64 {
	if len(bbox) != 4 || scale <= 0 || scale == 1 {
		return bbox
	}
	out := make([]float64, 4)
	for i, v := range bbox {
		out[i] = v / scale
	}
	return out
}

// SuppressOverlapping returns the indices of detections to keep when several
// boxes cover the same face. Higher scores win; indices come back in input order.
func SuppressOverlapping(bboxes [][]float64, scores []float64, iouThreshold float64) []int {
	order := make([]int, len(bboxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scoreAt(scores, order[a]) > scoreAt(scores, order[b])
	})

	suppressed := make([]bool, len(bboxes))
	for pos, i := range order {
		if suppressed[i] {
			continue
		}
		for _, j := range order[pos+1:] {
			if !suppressed[j] && ComputeIoU(bboxes[i], bboxes[j]) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}

	keep := make([]int, 0, len(bboxes))
	for i := range bboxes {
		if !suppressed[i] {
			keep = append(keep, i)
		}
	}
	return keep
}

func scoreAt(scores []float64, i int) float64 {
	if i < len(scores) {
		return scores[i]
	}
	return 0
}
