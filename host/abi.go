package host

// ABIVersion changes whenever the namespace, bridge or conversion contract
// between host and extension changes.
const ABIVersion = 1

// ABI is the full build contract: version plus build flavor. Extensions
// assert at compile time that theirs matches.
const ABI = ABIVersion<<8 | abiFlavor
