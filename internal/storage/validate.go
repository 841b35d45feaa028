package storage

import "github.com/rs/zerolog/log"

// CleanAndValidate filters items through validate, dropping the ones
// that fail. A partially corrupt collection degrades to its valid
// subset instead of failing the whole read; dropped counts are logged
// so the loss is visible.
func CleanAndValidate[T any](op string, items []T, validate func(T) error) []T {
	kept := make([]T, 0, len(items))
	dropped := 0
	for _, item := range items {
		if err := validate(item); err != nil {
			dropped++
			log.Warn().Err(err).Str("op", op).Msg("Dropping invalid record")
			continue
		}
		kept = append(kept, item)
	}
	if dropped > 0 {
		log.Warn().Str("op", op).Int("dropped", dropped).Int("kept", len(kept)).
			Msg("Discarded invalid records during read")
	}
	return kept
}
