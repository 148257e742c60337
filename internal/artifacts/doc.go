// Package artifacts pushes stage-produced files to the remote object store
// and records where they went.
//
// For each declared artifact field the manager writes a derived
// <field>_remote_url (or <field>_remote_urls for lists) next to the local
// value, never replacing it. A present derived field means the artifact was
// already synced, so repeated Sync calls upload nothing. Upload failures are
// reported and logged but only fail the stage when its policy requires
// remote availability.
package artifacts
