package sqlinline

const QSelectSubscriptionByUser = `--sql 0338330c-bf77-4945-87d1-1835381440b4
select user_id, status, current_period_end
from subscriptions
where user_id = $1::text
limit 1;
`
