package utils

// REVISION is surfaced in every API envelope so support can tie reports to a
// deployed build.
const REVISION = "1.4.0"
