package mocks

import (
	"context"

	"story-engine/shared/interfaces"

	"github.com/stretchr/testify/mock"
)

// Mock TxRunner. При успешном ожидании вызывает fn с nil-querier, чтобы
// тесты проверяли логику сервиса поверх замоканных репозиториев.
type TxRunner struct {
	mock.Mock
}

func (m *TxRunner) WithinTx(ctx context.Context, fn func(q interfaces.DBTX) error) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}
