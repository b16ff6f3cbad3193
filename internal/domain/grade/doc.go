// Package grade holds the grade data model: component kinds, subjects and
// student records, together with the read-only repository boundary that
// supplies them.
//
// Values are on the 0–20 scale. A Component marked Pending belongs to the
// subject's grading scheme without a recorded value; simulations may fill it.
package grade
