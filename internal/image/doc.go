// Package image models the container build for the downloader as a YAML
// descriptor and renders it to a Dockerfile.
//
// The build is a fixed, non-branching sequence: base image, system packages,
// workdir, repository copy, dependency install, environment, exposed port
// and the process manager entry command. Plan assigns every step a digest
// chained from its parent so a change to one step changes that step and all
// later ones, the same way layer cache keys behave.
//
// Lint reports the port inconsistencies the hand-written Dockerfile had:
// a PORT variable the entry command ignores, and an exposed port that
// differs from the bind port.
package image
