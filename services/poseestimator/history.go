package poseestimator

import (
	"sort"
	"time"

	"go.viam.com/swerve/spatialmath"
)

type timedPose struct {
	t    time.Time
	pose spatialmath.Pose2D
}

// poseHistory is a time ordered window of dead-reckoned poses, used to look up where the
// estimator thought the robot was when a vision image was captured.
type poseHistory struct {
	window  time.Duration
	entries []timedPose
}

func newPoseHistory(window time.Duration) *poseHistory {
	return &poseHistory{window: window}
}

func (h *poseHistory) reset(t time.Time, pose spatialmath.Pose2D) {
	h.entries = append(h.entries[:0], timedPose{t, pose})
}

// add appends a pose, replacing an entry at the same time, and drops entries that fell out of
// the window.
func (h *poseHistory) add(t time.Time, pose spatialmath.Pose2D) {
	if n := len(h.entries); n > 0 && !t.After(h.entries[n-1].t) {
		// time never runs backwards inside one estimator; equal times overwrite
		h.entries[n-1] = timedPose{h.entries[n-1].t, pose}
	} else {
		h.entries = append(h.entries, timedPose{t, pose})
	}

	cutoff := t.Add(-h.window)
	drop := 0
	// keep the newest entry at or before the cutoff so samples right at the edge interpolate
	for drop+1 < len(h.entries) && !h.entries[drop+1].t.After(cutoff) {
		drop++
	}
	if drop > 0 {
		h.entries = append(h.entries[:0], h.entries[drop:]...)
	}
}

// sample interpolates the pose at t. It fails outside the recorded span.
func (h *poseHistory) sample(t time.Time) (spatialmath.Pose2D, bool) {
	n := len(h.entries)
	if n == 0 || t.Before(h.entries[0].t) || t.After(h.entries[n-1].t) {
		return spatialmath.Pose2D{}, false
	}
	i := sort.Search(n, func(i int) bool { return !h.entries[i].t.Before(t) })
	if h.entries[i].t.Equal(t) {
		return h.entries[i].pose, true
	}
	before, after := h.entries[i-1], h.entries[i]
	frac := float64(t.Sub(before.t)) / float64(after.t.Sub(before.t))
	return before.pose.Interpolate(after.pose, frac), true
}

// insert records pose at t between existing entries, keeping the order. An entry already at t
// is left as is.
func (h *poseHistory) insert(t time.Time, pose spatialmath.Pose2D) {
	i := sort.Search(len(h.entries), func(i int) bool { return !h.entries[i].t.Before(t) })
	if i < len(h.entries) && h.entries[i].t.Equal(t) {
		return
	}
	h.entries = append(h.entries, timedPose{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = timedPose{t, pose}
}

// rebase applies fn to every entry at or after t.
func (h *poseHistory) rebase(t time.Time, fn func(spatialmath.Pose2D) spatialmath.Pose2D) {
	for i := range h.entries {
		if !h.entries[i].t.Before(t) {
			h.entries[i].pose = fn(h.entries[i].pose)
		}
	}
}

func (h *poseHistory) len() int {
	return len(h.entries)
}
