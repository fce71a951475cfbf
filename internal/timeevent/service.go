package timeevent

import (
	"context"
	"fmt"
)

// Service implements TimeEventServer over one FieldBossLookup and one
// GlobalPortalManager. Dispatch is synchronous and stateless at this
// layer; all state lives in the two lookups.
type Service struct {
	Bosses  *FieldBossLookup
	Portals *GlobalPortalManager
}

// NewService wires a Service around fresh, empty lookups.
func NewService() *Service {
	return &Service{
		Bosses:  NewFieldBossLookup(),
		Portals: NewGlobalPortalManager(),
	}
}

// TimeEvent dispatches req to whichever case is populated.
func (s *Service) TimeEvent(ctx context.Context, req TimeEventRequest) (TimeEventResponse, error) {
	switch {
	case req.JoinGlobalPortal != nil:
		resp, err := s.joinGlobalPortal(ctx, *req.JoinGlobalPortal)
		return TimeEventResponse{JoinGlobalPortal: resp}, err
	case req.GetGlobalPortal != nil:
		return TimeEventResponse{GetGlobalPortal: s.getGlobalPortal()}, nil
	case req.GetActiveFieldBosses != nil:
		return TimeEventResponse{GetActiveFieldBosses: s.getActiveFieldBosses()}, nil
	case req.FieldBossKilled != nil:
		s.Bosses.RemoveChannel(req.FieldBossKilled.MetadataID, req.FieldBossKilled.Channel)
		return TimeEventResponse{FieldBossKilled: FieldBossKilledResponse{}}, nil
	default:
		return TimeEventResponse{}, fmt.Errorf("timeevent: request has no populated case")
	}
}

// joinGlobalPortal handles JoinGlobalPortal: an empty response for no
// active portal, an eventId mismatch, or an entry whose MapID is the
// zero placeholder.
func (s *Service) joinGlobalPortal(ctx context.Context, req JoinGlobalPortalRequest) (JoinGlobalPortalResponse, error) {
	portal, ok := s.Portals.Active()
	if !ok || portal.EventID != req.EventID {
		return JoinGlobalPortalResponse{}, nil
	}
	if req.Index < 0 || req.Index >= len(portal.Entries) {
		return JoinGlobalPortalResponse{}, nil
	}

	entry := portal.Entries[req.Index]
	if entry.MapID == 0 {
		return JoinGlobalPortalResponse{}, nil
	}

	roomID, channel, err := s.Portals.Join(ctx, entry.MapID, entry.PortalID, req.Index)
	if err != nil {
		return JoinGlobalPortalResponse{}, err
	}

	return JoinGlobalPortalResponse{
		Info: &GlobalPortalJoinInfo{
			Channel:  channel,
			RoomID:   roomID,
			MapID:    entry.MapID,
			PortalID: entry.PortalID,
		},
	}, nil
}

func (s *Service) getGlobalPortal() GetGlobalPortalResponse {
	portal, ok := s.Portals.Active()
	if !ok {
		return GetGlobalPortalResponse{}
	}
	return GetGlobalPortalResponse{
		Info: &GlobalPortalSummary{MetadataID: portal.MetadataID, EventID: portal.EventID},
	}
}

func (s *Service) getActiveFieldBosses() GetActiveFieldBossesResponse {
	return GetActiveFieldBossesResponse{Bosses: s.Bosses.GetAll()}
}
