// Package config loads the HCL configuration file and turns HCL argument
// expressions into typed call arguments.
//
//	namespace          = "ext"
//	policy             = "degraded"
//	memory_limit_pages = 256
//	wasi               = false
//
//	extension "demo" {
//	  entries = ["math", "counter"]
//	}
//
// Every attribute is optional. An extension block without entries installs
// all of them in declaration order.
package config
