package scoring

import (
	"math"

	"github.com/ventia-ai/salesim/pkg/store"
)

// archetype is one reference point in the five-skill space, in the order
// prospection, empathy, technical domain, negotiation, resilience.
type archetype struct {
	label  string
	vector store.SkillVector
}

// Insertion order is the tie-break when two archetypes are equidistant.
var archetypes = []archetype{
	{"Explorador", store.SkillVector{5, 2, 2, 2, 3}},
	{"Empático", store.SkillVector{2, 5, 2, 3, 3}},
	{"Especialista", store.SkillVector{1, 1, 5, 3, 3}},
	{"Negociador", store.SkillVector{3, 2, 2, 5, 3}},
	{"Resiliente", store.SkillVector{2, 3, 2, 3, 5}},
	{"Cerrador", store.SkillVector{4, 2, 3, 5, 2}},
	{"Consultor", store.SkillVector{3, 4, 4, 3, 3}},
	{"Equilibrado", store.SkillVector{3, 3, 3, 3, 3}},
	{"Novato", store.SkillVector{1, 1, 1, 1, 1}},
	{"Élite", store.SkillVector{5, 5, 5, 5, 5}},
}

// ClassifyProfile maps a user's mean skill vector to the nearest archetype
// by Euclidean distance and returns the label with the general score, the
// mean of the five skills.
func ClassifyProfile(v store.SkillVector) (label string, generalScore float64) {
	best := archetypes[0]
	bestDist := distance(v, best.vector)
	for _, a := range archetypes[1:] {
		if d := distance(v, a.vector); d < bestDist {
			best = a
			bestDist = d
		}
	}

	var sum float64
	for _, s := range v {
		sum += s
	}
	return best.label, sum / float64(len(v))
}

func distance(a, b store.SkillVector) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
