package app

// Version is the current Aperture release.
const Version = "1.0.1-alpha"
