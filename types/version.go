package types

// Version is the canonical agent version. Both binaries and the compile
// manifest report it.
const Version = "0.3.0"
