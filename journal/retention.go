package journal

// RetentionPolicy governs how long sealed journal segments are kept. The
// core specification leaves retention as an open, site-configurable policy
// (§9c); the default here is keep-forever, matching a regulatory log's
// default posture.
type RetentionPolicy struct {
	// MaxAgeDays records a maximum segment age in days (0 means unlimited).
	// FileJournal does not read it: no segment is archived by age, and
	// rotation is driven by MaxEntries alone.
	MaxAgeDays int

	// MaxEntries is the maximum entry count an active segment may reach
	// before it is rotated into a new active segment. 0 means unlimited.
	MaxEntries int

	// ArchiveOnRotate controls whether a rotated segment is moved into the
	// archive subdirectory (true) or simply left in place (false). Rotation
	// never deletes a segment outright; deletion of archived segments, if
	// ever needed, is an operator action outside this package.
	ArchiveOnRotate bool
}

// DefaultRetentionPolicy is keep-forever: no age or count limit, and rotated
// segments move to the archive directory rather than accumulate at the
// active path.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAgeDays:      0,
		MaxEntries:      0,
		ArchiveOnRotate: true,
	}
}
