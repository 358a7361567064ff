package ir

// EngineVersion is reported by the CLI's --version flag.
const EngineVersion = "0.1.0"
