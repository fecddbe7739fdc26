package state

import "lendpool/native/lendbook"

// LendbookGetListing loads one order book listing by id.
func (m *Manager) LendbookGetListing(id uint64) (*lendbook.Listing, bool, error) {
	listing := new(lendbook.Listing)
	ok, err := m.readRLP(lendbookListingKey(id), listing)
	if err != nil || !ok {
		return nil, false, err
	}
	listing.EnsureDefaults()
	return listing, true, nil
}

// LendbookPutListing persists a listing record.
func (m *Manager) LendbookPutListing(listing *lendbook.Listing) error {
	return m.writeRLP(lendbookListingKey(listing.ID), listing)
}

// LendbookNextListingID allocates the next listing identifier, starting at
// one.
func (m *Manager) LendbookNextListingID() (uint64, error) {
	return m.nextSequence(lendbookSeqKey)
}

// LendbookOpenListings returns the ids of currently open listings in posting
// order.
func (m *Manager) LendbookOpenListings() ([]uint64, error) {
	return m.readUint64List(lendbookOpenListKey)
}

// LendbookPutOpenListings replaces the open listing index.
func (m *Manager) LendbookPutOpenListings(ids []uint64) error {
	if ids == nil {
		ids = []uint64{}
	}
	return m.writeRLP(lendbookOpenListKey, ids)
}
