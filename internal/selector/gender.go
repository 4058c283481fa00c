package selector

import "github.com/G858-debug/No-Safe-Word-sub002/internal/domain"

var (
	adapterFeminineForm  = Adapter{Name: "feminine-form-xl.safetensors", StrengthModel: 0.5, StrengthClip: 0.5}
	adapterMasculineForm = Adapter{Name: "masculine-form-xl.safetensors", StrengthModel: 0.5, StrengthClip: 0.5}
)

// GenderAdapter returns the gender-specific body adapter used by the person
// inpaint passes, or ok=false when none applies.
func GenderAdapter(g domain.CharacterGender) (Adapter, bool) {
	switch g {
	case domain.CharacterGenderFemale:
		return adapterFeminineForm, true
	case domain.CharacterGenderMale:
		return adapterMasculineForm, true
	default:
		return Adapter{}, false
	}
}
