// Package enrollment implements the sequence enrollment state machine.
//
// An enrollment is one contact's progress through one sequence. The service
// owns every status transition; callers never write enrollment rows
// directly. All transitions go through the store's versioned compare-and-set
// so that concurrent writers (a scheduler advance racing a reply) serialize
// on the enrollment row, and reply-driven terminal transitions always win.
//
// Repository implementations live in repository/postgres/; tests use the
// in-memory fakes defined alongside the tests.
package enrollment
