// Package pipeline loads the YAML stage catalog that tells the executor how
// each named stage is reached, which inputs it declares (and where those
// inputs fall back to), whether it needs the GPU, which output fields are
// artifacts to sync, and which parameters feed its cache fingerprint.
package pipeline
