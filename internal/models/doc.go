// Package models defines the core domain models for Flotilla.
//
// # Models
//
//   - Group: an invite-coded set of users sharing their live location
//   - TripInfo: free-form trip metadata supplied when a group is created
//   - Position: a single fix produced by a positioning sensor
//   - LocationRecord: the latest known position of one user, as stored
//
// # Design Principles
//
//  1. **One record per user**: locations are overwritten in place, never a history
//  2. **Avoid circular references**: relationships use ID strings, not pointers
//  3. **Set semantics at the service layer**: Group.Members is an ordered slice;
//     uniqueness is enforced by MembershipService and the store, not the type
package models
