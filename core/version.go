package core

// Version is the version of sonarchat.
const Version = "0.1.0"
