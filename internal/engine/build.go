package engine

// LlamaBuilt reports whether in-process llama.cpp support was compiled in.
func LlamaBuilt() bool { return llamaBuilt }
