// Package archive moves oversized tool traffic out of the live conversation.
//
// When the conversation crosses its threshold, Linker scans the interior of
// the log and replaces every large action or observation step with an archive
// step whose raw_text is RetrievePrefix followed by the content id. The
// original text is stored under that id in a Store and can be read back with
// the retrieve_msg tool. Ids are the md5 of the content, so archiving the same
// text twice stores one record.
//
// Janitor runs the age-based cleanups on a cron schedule.
package archive
