package executor

import (
	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/llm"
	"github.com/vaanihq/vaani/nlu"
)

// RegisterAll wires the canonical executors into a registry. A nil llm
// service or classifier leaves the corresponding executor degraded (it
// emits its error/low-confidence event) rather than unregistered, so flow
// validation stays uniform across deployments.
func RegisterAll(r *flow.Registry, llmService llm.Service, classifier nlu.Classifier) {
	r.Register(Response{})
	r.Register(NewLLM(llmService))
	r.Register(NewNLU(classifier))
	r.Register(Validation{})
	r.Register(NewHTTP())
	r.Register(Set{})
	r.Register(Branch{})
	r.Register(Score{})
}
