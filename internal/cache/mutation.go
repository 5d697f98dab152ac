package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Mutation — изменяющее действие с декларированным набором инвалидаций.
// Инвалидация происходит строго после наблюдаемого успеха действия;
// провалившаяся мутация кэш не трогает.
type Mutation struct {
	Name        string
	Invalidates []Key
	Do          func(ctx context.Context) error
}

// RunMutation исполняет мутацию и при успехе помечает затронутые ключи.
func (s *Store) RunMutation(ctx context.Context, m Mutation) error {
	if err := m.Do(ctx); err != nil {
		return fmt.Errorf("mutation %s: %w", m.Name, err)
	}

	s.logger.Info("mutation applied",
		zap.String("mutation", m.Name),
		zap.Int("invalidates", len(m.Invalidates)))
	s.Invalidate(m.Invalidates...)
	return nil
}
