// Package campaign implements campaign lifecycle management: drafting,
// scheduling, starting a send and reporting delivery stats.
//
// Delivery itself lives in service/sending. This package moves a campaign
// into SENDING and creates its recipients; the sender takes it from there.
// Repository implementations live in repository/postgres/.
package campaign
