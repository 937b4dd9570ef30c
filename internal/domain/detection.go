package domain

// DetectionResult is the classifier verdict for one sampled frame,
// combined with the stillness signal for the same frame.
type DetectionResult struct {
	TriggerDetected bool
	TriggerName     string
	Confidence      float64
	Description     string
	VideoEnded      bool
	// Failed marks a verdict produced from a classification error.
	// Such a result is always a non-detection.
	Failed bool
}

// NoDetection returns a non-detection carrying description.
func NoDetection(description string) DetectionResult {
	return DetectionResult{Description: description}
}

// FailedDetection converts a classification error into a non-detection
// with zero confidence so callers can keep processing.
func FailedDetection(err error) DetectionResult {
	return DetectionResult{
		Description: "Error: " + err.Error(),
		Failed:      true,
	}
}

// WithVideoEnded returns a copy of r with VideoEnded set.
func (r DetectionResult) WithVideoEnded(ended bool) DetectionResult {
	r.VideoEnded = ended
	return r
}
