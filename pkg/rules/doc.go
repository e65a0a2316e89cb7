/*
Package rules is the small interpreter that applies configured rules to a turn.

Two independent registries drive it: match resolvers decide whether a rule
applies (EXACT, REGEX, JSON_PATH, AGENT) and action resolvers apply its effect
(SET_INTENT, SET_STATE, SET_PARAM, SET_PARAMS, SET_DIALOGUE_ACT, REWRITE_QUERY,
INVOKE_TASK). Rule evaluation never aborts a turn: match failures resolve to
false and unknown resolver keys resolve to a no-op reported through the audit log.
*/
package rules
