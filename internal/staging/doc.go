// Package staging manages per-job scratch workspaces under paths.temp_dir.
//
// Each running job gets "<temp_dir>/<job_id>/", removed when the job ends.
// Directories left behind by a crashed worker are swept by CleanInactive,
// which consults the set of queued and processing jobs so that a live
// workspace is never touched.
package staging
