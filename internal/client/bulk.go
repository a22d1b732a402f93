package client

import (
	"context"

	"github.com/esp32-access-manager/backend/internal/apperr"
)

// ItemError is one failed item of a bulk operation.
type ItemError struct {
	ID  string
	Err error
}

// DeleteAllCodes deletes every active code with independent calls and then
// refetches the list whatever the outcome. A code already gone counts as
// deleted.
func (s *Syncer) DeleteAllCodes(ctx context.Context) []ItemError {
	_ = s.Fetch(ctx, ResourceCodes)
	var ids []string
	for _, c := range s.cache.Codes() {
		ids = append(ids, c.Code)
	}
	failed := s.deleteEach(ids, func(id string) error {
		_, err := s.api.DeleteCode(ctx, s.sess, id)
		return err
	})
	_ = s.Fetch(ctx, ResourceCodes)
	return failed
}

// DeleteAllCards disenrolls every enrolled card, then refetches the list.
func (s *Syncer) DeleteAllCards(ctx context.Context) []ItemError {
	_ = s.Fetch(ctx, ResourceCards)
	var ids []string
	for _, c := range s.cache.Cards() {
		ids = append(ids, c.ID)
	}
	failed := s.deleteEach(ids, func(id string) error {
		_, err := s.api.DisenrollCard(ctx, s.sess, id)
		return err
	})
	_ = s.Fetch(ctx, ResourceCards)
	return failed
}

func (s *Syncer) deleteEach(ids []string, del func(id string) error) []ItemError {
	var failed []ItemError
	for _, id := range ids {
		if err := del(id); err != nil && !IsKind(err, apperr.KindNotFound) {
			failed = append(failed, ItemError{ID: id, Err: err})
		}
	}
	return failed
}
