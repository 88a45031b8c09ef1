package internal

// Version is stamped into provenance records, sidecars, the derivative
// dataset description and reports
const Version = "1.0.0"
