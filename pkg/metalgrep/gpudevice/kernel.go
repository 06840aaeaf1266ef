package gpudevice

import _ "embed"

// Source is the Metal Shading Language source for the search kernel,
// embedded at build time so the engine never depends on a resource bundle
// being present at runtime. NewMetalDevice always compiles it; no
// precompiled library alongside the executable is looked up.
//
//go:embed kernel/search.metal
var Source string

// KernelName is the name of the compute function within Source.
const KernelName = "search_kernel"
