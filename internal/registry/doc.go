// Package registry maintains the per-router map from destination key to
// destination handle. Handles mark themselves active while they carry
// traffic or probes; a periodic sweep resets the connections of
// destinations that stayed inactive since the previous sweep.
package registry
